package runtime

import (
	"fmt"
	"os/exec"
	"strings"
)

// openProject starts command with path appended and does not wait for it.
func openProject(command, path string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	cmd := exec.Command(fields[0], append(fields[1:], path)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", fields[0], err)
	}
	go cmd.Wait()
	return nil
}
