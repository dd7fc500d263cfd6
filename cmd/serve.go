package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/optiease/edgechat/internal"
	"github.com/optiease/edgechat/internal/server"
	"github.com/spf13/cobra"
)

var (
	servePort        int
	serveStorageFile string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion and session storage server",
	Long: `Run the HTTP backend used for document conversion and remote session
storage. The chat client's --storage remote mode and document attachments
talk to this server.

The storage directory is chosen at runtime through POST /set_storage_path
and survives restarts via a small config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := serveStorageFile
		if configPath == "" {
			dir, err := internal.DataDir()
			if err != nil {
				return err
			}
			configPath = filepath.Join(dir, "storage_config.json")
		}

		srv := server.NewServer(configPath)
		return srv.ListenAndServe(fmt.Sprintf(":%d", servePort))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 5000, "Port to listen on")
	serveCmd.Flags().StringVar(&serveStorageFile, "storage-config", "", "Storage config file location (default: platform data dir)")
}
