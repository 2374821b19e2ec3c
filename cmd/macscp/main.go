// Command macscp is a Cobra CLI that drives the transfer engine end to
// end: connect to a profile, browse and move files, manage the
// background transfer queue, diff a local tree against a remote one,
// mirror local edits upstream, and open a remote file for external
// editing. It exists so every internal subsystem is reachable from a
// real binary, not only from tests.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maponyatp/macscp/internal/cryptostore"
	"github.com/maponyatp/macscp/internal/dispatch"
	"github.com/maponyatp/macscp/internal/editbridge"
	"github.com/maponyatp/macscp/internal/profilestore"
	"github.com/maponyatp/macscp/internal/queue"
	"github.com/maponyatp/macscp/internal/settings"
	"github.com/maponyatp/macscp/internal/syncengine"
	"github.com/maponyatp/macscp/internal/tmpsweep"
	"github.com/maponyatp/macscp/internal/watcher"
	"github.com/maponyatp/macscp/internal/xfs"
	"github.com/maponyatp/macscp/internal/xfs/ftpbackend"
	"github.com/maponyatp/macscp/internal/xfs/s3backend"
	"github.com/maponyatp/macscp/internal/xfs/sftpbackend"
)

var log = logrus.WithField("pkg", "main")

// app bundles every long-lived subsystem a subcommand might need,
// constructed once in PersistentPreRunE and shared across the command
// tree for the life of the process.
type app struct {
	configDir string

	vault    *cryptostore.Store
	profiles *profilestore.Store
	disp     *dispatch.Dispatcher
	q        *queue.Queue
	watch    *watcher.Watcher
	edit     *editbridge.Bridge
}

func newApp() (*app, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}
	configDir := filepath.Join(home, ".config", "macscp")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, err
	}

	if n, err := tmpsweep.Sweep(); err != nil {
		log.WithError(err).Warn("temp directory sweep failed")
	} else if n > 0 {
		log.WithField("count", n).Info("reclaimed stale temp directories")
	}

	vault := cryptostore.New()
	disp := dispatch.New()

	q, err := queue.New(filepath.Join(configDir, "transfers.json"), disp)
	if err != nil {
		return nil, err
	}
	q.Start(context.Background())

	return &app{
		configDir: configDir,
		vault:     vault,
		profiles:  profilestore.New(filepath.Join(configDir, "profiles.json"), vault),
		disp:      disp,
		q:         q,
		watch:     watcher.New(q),
		edit:      editbridge.New(disp),
	}, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var a *app

	root := &cobra.Command{
		Use:   "macscp",
		Short: "Multi-protocol file transfer engine",
		Long: `macscp connects to SFTP, FTP/FTPS, and S3 remotes through a single
dispatcher, queues resumable transfers, diffs local and remote trees,
and mirrors a watched local directory upstream.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp()
			return err
		},
	}

	root.AddCommand(
		newConnectCmd(&a),
		newLsCmd(&a),
		newGetCmd(&a),
		newPutCmd(&a),
		newQueueCmd(&a),
		newSyncCmd(&a),
		newWatchCmd(&a),
		newEditCmd(&a),
		newProfileCmd(&a),
		newSettingsCmd(&a),
	)
	return root
}

func buildBackend(p profilestore.Profile) (xfs.Backend, error) {
	switch p.Protocol {
	case profilestore.ProtocolSFTP:
		return sftpbackend.New(sftpbackend.Config{
			Host:          p.Host,
			Port:          fmt.Sprintf("%d", p.Port),
			User:          p.Username,
			Password:      p.Password,
			KeyFile:       p.KeyPath,
			KeyPassphrase: p.KeyPassphrase,
			UseAgent:      p.AuthMode == profilestore.AuthAgent,
		}), nil
	case profilestore.ProtocolFTP, profilestore.ProtocolFTPS:
		return ftpbackend.New(ftpbackend.Config{
			Host:     p.Host,
			Port:     fmt.Sprintf("%d", p.Port),
			User:     p.Username,
			Password: p.Password,
			Explicit: p.Protocol == profilestore.ProtocolFTPS,
		}), nil
	case profilestore.ProtocolS3:
		return s3backend.New(s3backend.Config{
			Bucket:          p.Bucket,
			Region:          p.Region,
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: p.SecretAccessKey,
			Endpoint:        p.Endpoint,
		}), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", p.Protocol)
	}
}

func findProfile(a *app, name string) (profilestore.Profile, error) {
	profiles, err := a.profiles.Load()
	if err != nil {
		return profilestore.Profile{}, err
	}
	for _, p := range profiles {
		if p.Name == name || p.ID == name {
			return p, nil
		}
	}
	return profilestore.Profile{}, fmt.Errorf("no profile named %q", name)
}

func newConnectCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <profile>",
		Short: "Connect to a stored profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := findProfile(*a, args[0])
			if err != nil {
				return err
			}
			backend, err := buildBackend(p)
			if err != nil {
				return err
			}
			if err := (*a).disp.Connect(cmd.Context(), backend); err != nil {
				return err
			}
			fmt.Printf("connected to %s (%s)\n", p.Name, p.Protocol)
			return nil
		},
	}
}

func newLsCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <remote-path>",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := (*a).disp.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := "file"
				if e.IsDir {
					kind = "dir"
				}
				fmt.Printf("%-4s %10d  %s\n", kind, e.Size, e.Name)
			}
			return nil
		},
	}
}

func newGetCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> <local-path>",
		Short: "Queue a download",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := (*a).q.Add(cmd.Context(), queue.Spec{
				Direction:  xfs.Download,
				RemotePath: args[0],
				LocalPath:  args[1],
				Name:       filepath.Base(args[0]),
			})
			fmt.Println("queued", task.ID)
			return nil
		},
	}
}

func newPutCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> <remote-path>",
		Short: "Queue an upload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			task := (*a).q.Add(cmd.Context(), queue.Spec{
				Direction:  xfs.Upload,
				LocalPath:  args[0],
				RemotePath: args[1],
				Name:       filepath.Base(args[0]),
				Total:      info.Size(),
			})
			fmt.Println("queued", task.ID)
			return nil
		},
	}
}

func newQueueCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the transfer queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show every queued and in-flight transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range (*a).q.Snapshot() {
				fmt.Printf("%-36s %-10s %-8s %3d%%  %s\n", t.ID, t.Direction, t.Status, t.Progress(), t.Name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or active transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			(*a).q.Cancel(args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retry <task-id>",
		Short: "Retry a failed, cancelled, or interrupted transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			(*a).q.Retry(cmd.Context(), args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retry-all",
		Short: "Retry every failed, cancelled, or interrupted transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			(*a).q.RetryAll(cmd.Context())
			return nil
		},
	})
	return cmd
}

func newSyncCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <local-dir> <remote-dir>",
		Short: "Compare a local directory against a remote one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			diffs, err := syncengine.Compare(cmd.Context(), (*a).disp, args[0], args[1])
			if err != nil {
				return err
			}
			for _, d := range diffs {
				fmt.Printf("%-12s %s\n", d.Status, d.Name)
			}
			return nil
		},
	}
}

func newWatchCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror a local directory upstream",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start <local-dir> <remote-dir>",
		Short: "Start watching a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return (*a).watch.Start(cmd.Context(), args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop <local-dir>",
		Short: "Stop watching a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			(*a).watch.Stop(args[0])
			return nil
		},
	})
	return cmd
}

func newEditCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <remote-path>",
		Short: "Download a remote file and watch it for external edits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := (*a).edit.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(local)
			return nil
		},
	}
}

func newProfileCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage connection profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := (*a).profiles.Load()
			if err != nil {
				return err
			}
			for _, p := range profiles {
				fmt.Printf("%-36s %-6s %s\n", p.ID, p.Protocol, p.Name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unlock",
		Short: "Unlock the credential vault for this session",
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := readPassphrase()
			if err != nil {
				return err
			}
			(*a).vault.Set(passphrase)
			return nil
		},
	})
	return cmd
}

func readPassphrase() (string, error) {
	var line string
	if _, err := fmt.Scanln(&line); err != nil {
		return "", err
	}
	return line, nil
}

func loadSettings(a *app) (settings.Settings, error) {
	return settings.Load(filepath.Join(a.configDir, "settings.json"))
}

func newSettingsCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View and change application preferences",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(*a)
			if err != nil {
				return err
			}
			fmt.Printf("theme: %s\nshowHidden: %t\ndefaultLocalPath: %s\nconfirmOnDelete: %t\n",
				s.Theme, s.ShowHidden, s.DefaultLocalPath, s.ConfirmOnDelete)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-theme <system|dark|light>",
		Short: "Change the theme preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(*a)
			if err != nil {
				return err
			}
			s.Theme = settings.Theme(args[0])
			return settings.Save(filepath.Join((*a).configDir, "settings.json"), s)
		},
	})
	return cmd
}
