package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cx32hal/drivers/cx32flash"
	"cx32hal/drivers/cx32flash/flashsim"
	"cx32hal/drivers/regbridge"
	"cx32hal/services/config"
	"cx32hal/x/strx"
)

var rootOpts = struct {
	variant   string
	transport string
	addr      uint16
	image     string
	timeout   uint32
	verbose   bool
	cfgFile   string
}{}

// session is one opened controller plus its backing part.
type session struct {
	sim  *flashsim.Sim
	ctl  *cx32flash.Controller
	out  io.Writer
	save bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cx32flash",
		Short:         "Erase, program and read CX32L003 flash",
		Long:          "Erase, program and read CX32L003 flash. State is kept in --image between runs.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	f := root.PersistentFlags()
	f.StringVar(&rootOpts.variant, "variant", "", "chip variant (default from config, else "+cx32flash.DefaultVariant+")")
	f.StringVar(&rootOpts.transport, "transport", "direct", "bus path: direct or i2c")
	f.Uint16Var(&rootOpts.addr, "addr", regbridge.AddressDefault, "bridge I2C address")
	f.StringVarP(&rootOpts.image, "image", "i", "", "array image file loaded before and saved after each command")
	f.Uint32Var(&rootOpts.timeout, "timeout", cx32flash.DefaultTimeout, "busy-wait ceiling in ms ticks")
	f.BoolVarP(&rootOpts.verbose, "verbose", "v", false, "log driver activity to stderr")
	f.StringVar(&rootOpts.cfgFile, "config", "", "YAML config file (cli section)")

	root.AddCommand(newInfoCmd(), newEraseCmd(), newProgramCmd(), newReadCmd(), newProtectCmd(), newScriptCmd())
	return root
}

// cliConfig is the "cli" section of a config document.
type cliConfig struct {
	Variant   string `yaml:"variant"`
	Transport string `yaml:"transport"`
	Image     string `yaml:"image"`
}

func loadCLIConfig() (cliConfig, error) {
	var cc cliConfig
	var (
		d   *config.Document
		err error
	)
	if rootOpts.cfgFile != "" {
		d, err = config.LoadFile(rootOpts.cfgFile)
	} else {
		d, err = config.Load(config.DefaultDevice)
	}
	if err != nil {
		return cc, err
	}
	if v, ok := d.Section("cli"); ok {
		if m, ok := v.(map[string]any); ok {
			cc.Variant, _ = m["variant"].(string)
			cc.Transport, _ = m["transport"].(string)
			cc.Image, _ = m["image"].(string)
		}
	}
	return cc, nil
}

// open builds the controller for one command. Flags win over config.
func open(cmd *cobra.Command) (*session, error) {
	cc, err := loadCLIConfig()
	if err != nil && rootOpts.cfgFile != "" {
		return nil, err
	}
	variant := strx.Coalesce(rootOpts.variant, cc.Variant)
	image := strx.Coalesce(rootOpts.image, cc.Image)
	transport := rootOpts.transport
	if !cmd.Flags().Changed("transport") && cc.Transport != "" {
		transport = cc.Transport
	}

	v, err := cx32flash.Lookup(variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, variant)
	}
	sim := flashsim.New(v.Geometry())
	if image != "" {
		raw, err := os.ReadFile(image)
		switch {
		case err == nil:
			if uint32(len(raw)) > v.FlashSize {
				return nil, fmt.Errorf("image %s is %d bytes, %s holds %d", image, len(raw), v.Name, v.FlashSize)
			}
			sim.Load(0, raw)
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	var bus cx32flash.Bus = sim
	switch strings.ToLower(transport) {
	case "direct", "":
	case "i2c":
		bus = regbridge.New(regbridge.NewResponder(sim, rootOpts.addr), rootOpts.addr)
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}

	cfg := cx32flash.Config{
		Geometry:       v.Geometry(),
		Timeout:        rootOpts.timeout,
		EnableAlarmIRQ: true,
	}
	if rootOpts.verbose {
		cfg.Logger = newStderrLogger(cmd.ErrOrStderr())
	}
	ctl := cx32flash.New(bus, cfg)
	sim.OnIRQ(ctl.IRQHandler)
	if err := ctl.Init(); err != nil {
		return nil, err
	}
	if image != "" {
		if err := restoreProtect(ctl, image); err != nil {
			return nil, err
		}
	}
	rootOpts.image = image
	return &session{sim: sim, ctl: ctl, out: cmd.OutOrStdout()}, nil
}

// close persists the array and the SLOCK mask when an image is in use
// and the command wrote.
func (s *session) close() error {
	if !s.save || rootOpts.image == "" {
		return nil
	}
	if err := os.WriteFile(rootOpts.image, s.sim.Snapshot(), 0o644); err != nil {
		return err
	}
	mask, err := s.ctl.WriteProtect()
	if err != nil {
		return err
	}
	path := protectPath(rootOpts.image)
	if mask == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("0x%08X\n", mask)), 0o644)
}

// protectPath names the file holding the SLOCK mask next to image.
func protectPath(image string) string { return image + ".slock" }

func restoreProtect(ctl *cx32flash.Controller, image string) error {
	raw, err := os.ReadFile(protectPath(image))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	mask, err := parseU32(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("%s: %w", protectPath(image), err)
	}
	return ctl.SetWriteProtect(mask)
}

// withSession opens a session, runs fn and saves the image.
func withSession(cmd *cobra.Command, fn func(*session) error) error {
	s, err := open(cmd)
	if err != nil {
		return err
	}
	runErr := fn(s)
	if err := s.close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// parseU32 accepts decimal, 0x hex, 0o octal and 0b binary.
func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(v), nil
}

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}
