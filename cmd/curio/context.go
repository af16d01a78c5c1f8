package main

import (
	"strings"
	"sync"

	"curio/internal/config"
)

type commandContext struct {
	addressFlag *string
	configFlag  *string
	jsonFlag    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(addressFlag, configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		addressFlag: addressFlag,
		configFlag:  configFlag,
		jsonFlag:    jsonFlag,
	}
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiAddress resolves the daemon address: explicit flag first, then the
// configured bind address.
func (c *commandContext) apiAddress() (string, error) {
	if c.addressFlag != nil && strings.TrimSpace(*c.addressFlag) != "" {
		return strings.TrimSpace(*c.addressFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cfg.Paths.APIBind), nil
}

func (c *commandContext) client() (*apiClient, error) {
	address, err := c.apiAddress()
	if err != nil {
		return nil, err
	}
	return newAPIClient(address)
}
