// Package runfrog provides embedded GUI assets for production builds.
package runfrog

import "embed"

// In dev mode (IsDev=true), templates and static files are read from disk.
// Otherwise they are served from these embedded filesystems.

//go:embed all:frontend/static
var StaticFS embed.FS

//go:embed all:frontend/templates
var TemplateFS embed.FS
