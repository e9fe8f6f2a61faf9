package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"montage/internal/api"
	"montage/internal/config"
)

type commandContext struct {
	configFlag *string
	addrFlag   *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, addrFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// daemonAddr resolves the API address from the flag or the configured bind,
// rewriting wildcard binds to loopback so the client can actually dial them.
func (c *commandContext) daemonAddr() string {
	if c.addrFlag != nil && strings.TrimSpace(*c.addrFlag) != "" {
		return strings.TrimSpace(*c.addrFlag)
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	host, port, splitErr := net.SplitHostPort(bind)
	if splitErr != nil {
		return bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (c *commandContext) apiToken() string {
	if c.tokenFlag != nil && strings.TrimSpace(*c.tokenFlag) != "" {
		return strings.TrimSpace(*c.tokenFlag)
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Paths.APIToken
}

func (c *commandContext) withClient(cmd *cobra.Command, fn func(context.Context, *api.Client) error) error {
	addr := c.daemonAddr()
	if addr == "" {
		return fmt.Errorf("daemon address unknown; set paths.api_bind in the config or pass --addr")
	}
	client, err := api.NewClient(addr, c.apiToken())
	if err != nil {
		return err
	}
	return fn(cmd.Context(), client)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
