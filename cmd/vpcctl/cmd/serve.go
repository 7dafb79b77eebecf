package cmd

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
)

// serveCmd is the builtin workload: a trivial HTTP server the deployer
// re-execs inside a subnet namespace when neither nginx nor python is
// wanted. Hidden from help; it is not part of the operator surface.
var serveCmd = &cobra.Command{
	Use:    "serve",
	Hidden: true,
	Short:  "Run the builtin workload HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		app := fiber.New(fiber.Config{DisableStartupMessage: true})
		app.Get("/", func(c *fiber.Ctx) error {
			hostname, _ := os.Hostname()
			return c.JSON(fiber.Map{
				"workload": "vpcctl-builtin",
				"hostname": hostname,
				"pid":      os.Getpid(),
				"port":     port,
			})
		})

		return app.Listen(fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "listen port")
	rootCmd.AddCommand(serveCmd)
}
