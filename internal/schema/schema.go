package schema

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type CommandSchema struct {
	Path        string           `json:"path"`
	Use         string           `json:"use"`
	Short       string           `json:"short"`
	Aliases     []string         `json:"aliases,omitempty"`
	Flags       []FlagSchema     `json:"flags,omitempty"`
	Global      []FlagSchema     `json:"global_flags,omitempty"`
	Subcommands []CommandSchema  `json:"subcommands,omitempty"`
	Endpoints   []EndpointSchema `json:"endpoints,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// EndpointSchema describes one HTTP route and the command path whose
// allowlist entry gates it.
type EndpointSchema struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Command string `json:"command,omitempty"`
}

// Build describes the command at commandPath (the root when empty). The HTTP
// endpoints are attached to the root description only.
func Build(root *cobra.Command, commandPath string, endpoints []EndpointSchema) (CommandSchema, error) {
	cmd := root
	for _, p := range strings.Fields(strings.TrimSpace(commandPath)) {
		next, ok := lo.Find(cmd.Commands(), func(c *cobra.Command) bool {
			return c.Name() == p || lo.Contains(c.Aliases, p)
		})
		if !ok {
			return CommandSchema{}, fmt.Errorf("command not found: %s", commandPath)
		}
		cmd = next
	}

	s := serialize(cmd)
	if cmd == root {
		s.Global = collectFlags(root.PersistentFlags())
		s.Endpoints = endpoints
	}
	return s, nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:    strings.TrimSpace(cmd.CommandPath()),
		Use:     cmd.Use,
		Short:   cmd.Short,
		Aliases: cmd.Aliases,
		Flags:   collectFlags(cmd.NonInheritedFlags()),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(set *pflag.FlagSet) []FlagSchema {
	items := []FlagSchema{}
	set.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		items = append(items, FlagSchema{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  required,
		})
	})
	return items
}
