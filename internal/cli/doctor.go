package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"screenroom/internal/screenroom/storage"
	"screenroom/pkg/config"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check host prerequisites",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ok := true
	printCheck("config", true, configPath)

	for _, binary := range []string{
		cfg.Display.FramebufferBinary,
		cfg.Display.ScreenServerBinary,
		cfg.Display.WindowManager,
		cfg.Recording.EncoderBinary,
	} {
		if path, err := exec.LookPath(binary); err != nil {
			printCheck(binary, false, "not found in PATH")
			ok = false
		} else {
			printCheck(binary, true, path)
		}
	}

	if err := checkWritable(cfg.Recording.Root); err != nil {
		printCheck("recordings root", false, fmt.Sprintf("%s: %v", cfg.Recording.Root, err))
		ok = false
	} else {
		printCheck("recordings root", true, cfg.Recording.Root)
	}

	if cfg.Storage.Endpoint == "" {
		printCheck("object storage", true, "not configured, recordings stay local")
	} else if store, err := storage.NewStore(cfg); err != nil {
		printCheck("object storage", false, err.Error())
		ok = false
	} else if err := store.Ping(cmd.Context()); err != nil {
		printCheck("object storage", false, fmt.Sprintf("%s: %v", cfg.Storage.Endpoint, err))
		ok = false
	} else {
		printCheck("object storage", true,
			fmt.Sprintf("%s bucket=%s", cfg.Storage.Endpoint, cfg.Storage.Bucket))
	}

	if !ok {
		return fmt.Errorf("some prerequisites are missing")
	}
	fmt.Println("\nAll prerequisites met.")
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, nil, 0600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func printCheck(name string, ok bool, detail string) {
	mark := "ok"
	if !ok {
		mark = "FAIL"
	}
	fmt.Printf("%-18s [%s] %s\n", name, mark, detail)
}
