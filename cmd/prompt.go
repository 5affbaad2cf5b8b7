package cmd

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
)

func confirm(message string) (bool, error) {
	var ok bool
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, fmt.Errorf("survey failed: %w", err)
	}
	return ok, nil
}
