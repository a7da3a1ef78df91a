package overlay

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed web
var webFS embed.FS

// PageHandler serves the embedded overlay page and its script. Mount at
// /overlay/.
func PageHandler() http.Handler {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		// embed paths are fixed at compile time
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

// AssetHandler serves named sound/video assets referenced by notification
// payloads from dataDir. Mount at /assets/.
func AssetHandler(dataDir string) http.Handler {
	return http.FileServer(http.Dir(dataDir))
}
