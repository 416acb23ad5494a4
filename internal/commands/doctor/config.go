package doctor

import (
	"context"
	"errors"
	"os"

	"github.com/hay-kot/criterio"

	"github.com/ferndale-health/stitch/internal/core/config"
)

// ConfigCheck validates the configuration file.
type ConfigCheck struct {
	config     *config.Config
	configPath string
	loadErr    error
}

// NewConfigCheck creates a new configuration check. cfg may be nil when
// loading failed; loadErr carries the reason.
func NewConfigCheck(cfg *config.Config, configPath string, loadErr error) *ConfigCheck {
	return &ConfigCheck{
		config:     cfg,
		configPath: configPath,
		loadErr:    loadErr,
	}
}

func (c *ConfigCheck) Name() string {
	return "Configuration"
}

func (c *ConfigCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.configPath != "" {
		if _, err := os.Stat(c.configPath); err == nil {
			result.Items = append(result.Items, CheckItem{
				Label:  "Config file",
				Status: StatusPass,
				Detail: c.configPath,
			})
		} else {
			result.Items = append(result.Items, CheckItem{
				Label:  "Config file",
				Status: StatusWarn,
				Detail: c.configPath + " not found, using defaults",
			})
		}
	}

	if c.config == nil {
		detail := "configuration not loaded"
		if c.loadErr != nil {
			detail = c.loadErr.Error()
		}

		var fieldErrs criterio.FieldErrors
		if errors.As(c.loadErr, &fieldErrs) {
			for _, fe := range fieldErrs {
				label := fe.Field
				if label == "" {
					label = "validation"
				}
				result.Items = append(result.Items, CheckItem{
					Label:  label,
					Status: StatusFail,
					Detail: fe.Err.Error(),
				})
			}
			return result
		}

		result.Items = append(result.Items, CheckItem{
			Label:  "Config loaded",
			Status: StatusFail,
			Detail: detail,
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "Config valid",
		Status: StatusPass,
	})
	result.Items = append(result.Items, CheckItem{
		Label:  "Data directory",
		Status: StatusPass,
		Detail: c.config.DataDir,
	})

	if c.config.Server.APIKey == "" {
		result.Items = append(result.Items, CheckItem{
			Label:  "API key",
			Status: StatusWarn,
			Detail: "no api key configured; requests will be unauthenticated",
		})
	}

	return result
}
