// Package templates embeds the cleanup script template and the default
// engine configuration.
package templates

import "embed"

//go:embed cleanup.sh.tmpl config.yaml
var FS embed.FS
