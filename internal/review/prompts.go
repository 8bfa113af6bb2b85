package review

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a skilled code analyzer and tester. Your role is to:
1. Analyze code for potential issues, bugs, and improvements
2. Suggest test cases and testing strategies
3. Evaluate code quality, security, and performance
4. Provide constructive feedback and recommendations
5. Generate unit tests when appropriate

Be thorough, practical, and constructive in your analysis.`

func filePrompt(f File, content string, truncated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please analyze this %s file for:\n\n", f.Extension)
	fmt.Fprintf(&b, "**File:** %s\n\n", f.Path)
	fmt.Fprintf(&b, "**Code:**\n```%s\n%s\n```\n", f.Extension, content)
	if truncated {
		b.WriteString("\n(The file was truncated for analysis.)\n")
	}
	b.WriteString(`
**Analysis Tasks:**
1. **Code Quality**: Check for best practices, code structure, and maintainability
2. **Potential Issues**: Identify bugs, security vulnerabilities, or performance issues
3. **Testing Strategy**: Suggest what should be tested and how
4. **Improvements**: Recommend specific improvements or optimizations
5. **Unit Tests**: If applicable, suggest unit test cases

Please provide a structured analysis with clear sections.
`)
	return b.String()
}

func summaryPrompt(dir string, analyses []Analysis) string {
	var b strings.Builder
	b.WriteString("Based on the following code analysis results, please generate a comprehensive test report:\n\n")
	fmt.Fprintf(&b, "**Project Path:** %s\n**Analysis Results:**\n\n", dir)
	for _, a := range analyses {
		fmt.Fprintf(&b, "**File: %s**\n", a.File)
		if a.Err != "" {
			fmt.Fprintf(&b, "Error: %s\n", a.Err)
		} else {
			b.WriteString(a.Text)
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}
	b.WriteString(`Please provide:
1. **Executive Summary**: Overall project quality assessment
2. **Key Findings**: Most important issues and recommendations
3. **Test Plan**: Comprehensive testing strategy
4. **Priority Issues**: What should be fixed first
5. **Recommendations**: Specific actionable improvements

Format the report in a clear, professional manner.
`)
	return b.String()
}
