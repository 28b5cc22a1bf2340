// msgd is the messaging daemon. It owns the message store and serves the
// HTTP API on a unix socket; clients attach through that socket.
package main

import (
	"flag"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/pfraquete/EKKLE-sub009/internal/daemon"
)

func main() {
	// A local .env can supply MSGD_* overrides during development.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to a TOML config file")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	socketPath := flag.String("socket", "", "unix socket path (overrides config)")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: *configPath,
			DataDir:    *dataDir,
			SocketPath: *socketPath,
		}),
	)

	app.Run()
}
