package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/nudge/pkg/tmpl"
)

// CommandTemplateData defines the fields available to delivery command
// templates.
type CommandTemplateData struct {
	ID    string // Notification ID
	Title string // Notification title
	Body  string // Notification body
}

// ValidateDeep performs comprehensive validation including file system checks
// and template syntax. Errors are reported as criterio.FieldErrors.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
		c.validateDeliveryCommand(),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// validateDeliveryCommand checks the command backend's executable and the
// template syntax of every argument.
func (c *Config) validateDeliveryCommand() error {
	if c.Delivery.Backend != BackendCommand {
		return nil
	}

	var errs criterio.FieldErrorsBuilder

	if _, err := exec.LookPath(c.Delivery.Command[0]); err != nil {
		errs = errs.Append("delivery.command[0]", fmt.Errorf("executable not found: %s", c.Delivery.Command[0]))
	}

	sample := CommandTemplateData{ID: "test123", Title: "title", Body: "body"}
	for i, arg := range c.Delivery.Command {
		if _, err := tmpl.Render(arg, sample); err != nil {
			errs = errs.Append(fmt.Sprintf("delivery.command[%d]", i), fmt.Errorf("template error: %w", err))
		}
	}

	return errs.ToError()
}

// isDirectoryOrNotExist validates that the path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
