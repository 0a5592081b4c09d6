package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tgrelay/internal/channels/telegram"
	"github.com/nextlevelbuilder/tgrelay/internal/config"
	"github.com/nextlevelbuilder/tgrelay/internal/store/pg"
	"github.com/nextlevelbuilder/tgrelay/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("tgrelay doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := config.ResolvePath(cfgFile)
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Route store:")
	fmt.Printf("    %-12s %s\n", "Driver:", cfg.Database.Driver)
	checkRouteStore(ctx, cfg.Database)

	fmt.Println()
	fmt.Println("  Telegram:")
	checkTelegram(ctx, cfg)

	fmt.Println()
	fmt.Println("  Media:")
	checkDir("Dir:", cfg.Media.Dir)
	fmt.Printf("    %-12s %s\n", "Base URL:", cfg.Media.BaseURL)

	fmt.Println()
	fmt.Println("  Ops server:")
	checkListen(cfg.Server.Listen)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkRouteStore(ctx context.Context, cfg config.DatabaseConfig) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.Driver == "postgres" {
		if cfg.DSN == "" {
			fmt.Printf("    %-12s NOT SET (RELAY_DATABASE_DSN)\n", "DSN:")
			return
		}
		db, err := pg.OpenDB(ctx, cfg.DSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			return
		}
		defer db.Close()
		s, err := upgrade.CheckSchema(ctx, db)
		if err != nil {
			fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		} else {
			switch s.Err() {
			case nil:
				fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
			case upgrade.ErrSchemaDirty:
				fmt.Printf("    %-12s v%d (DIRTY, run: tgrelay migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
			case upgrade.ErrSchemaAhead:
				fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
			default:
				fmt.Printf("    %-12s v%d (run: tgrelay migrate up)\n", "Schema:", s.CurrentVersion)
			}
		}
	}

	routes, err := openRouteStore(ctx, cfg)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Status:", err)
		return
	}
	defer routes.Close()
	groups, err := routes.ListGroups(ctx)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Groups:", err)
		return
	}
	fmt.Printf("    %-12s %d routed\n", "Groups:", len(groups))
}

func checkTelegram(ctx context.Context, cfg *config.Config) {
	if cfg.Telegram.Token == "" {
		fmt.Printf("    %-12s NOT SET (RELAY_TELEGRAM_TOKEN)\n", "Token:")
		return
	}
	fmt.Printf("    %-12s %s\n", "Token:", maskSecret(cfg.Telegram.Token))

	ch, err := telegram.New(cfg.Telegram, cfg.Media.MaxBytes)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Bot:", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	self, err := ch.Self(ctx)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Bot:", err)
		return
	}
	fmt.Printf("    %-12s %s\n", "Bot:", self)
}

func checkDir(label, dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		fmt.Printf("    %-12s %s (will be created)\n", label, abs)
	case err != nil:
		fmt.Printf("    %-12s %s (%s)\n", label, abs, err)
	case !info.IsDir():
		fmt.Printf("    %-12s %s (NOT A DIRECTORY)\n", label, abs)
	default:
		fmt.Printf("    %-12s %s (OK)\n", label, abs)
	}
}

func checkListen(addr string) {
	if addr == "" {
		fmt.Printf("    %-12s disabled\n", "Listen:")
		return
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Printf("    %-12s %s (UNAVAILABLE: %s)\n", "Listen:", addr, err)
		return
	}
	ln.Close()
	fmt.Printf("    %-12s %s (free)\n", "Listen:", addr)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
