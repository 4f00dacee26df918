package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// PackageTools configures the packaging step. Everything beyond the deb
// package is optional: without Mkimage the step stops after bindeb-pkg, and
// without VbutilKernel it stops after the FIT image, matching how a plain
// distro build differs from a ChromeOS-signed one.
type PackageTools struct {
	// Mkimage is the u-boot mkimage binary used to build a FIT image.
	Mkimage string
	// ItsFile is the image source description handed to mkimage.
	ItsFile string

	// VbutilKernel signs and packs the FIT image into a bootable partition blob.
	VbutilKernel string
	Keyblock     string
	DataKey      string
	Cmdline      string
	VbutilArch   string
}

// runPackage produces the distributable artifacts for a successful build:
// always the deb packages, then the FIT image and signed kernel partition when
// the corresponding tools are configured. Returns the artifact paths.
func (o *Orchestrator) runPackage(ctx context.Context, d Descriptor, outDir string) ([]string, error) {
	res, err := o.runMake(ctx, d, outDir, planned{Phase: PhasePackage, Targets: []string{"bindeb-pkg"}})
	if err != nil {
		return nil, fmt.Errorf("bindeb-pkg: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("bindeb-pkg exited with code %d", res.ExitCode)
	}
	artifacts := []string{outDir}

	if o.Tools.Mkimage == "" {
		return artifacts, nil
	}

	uimg := filepath.Join(outDir, "vmlinux.uimg")
	if err := o.runTool(ctx, Command{
		Path: o.Tools.Mkimage,
		Args: []string{"-D", `""-I dts -O dtb -p 2048""`, "-f", o.Tools.ItsFile, uimg},
		Dir:  o.Tree,
	}); err != nil {
		return artifacts, err
	}
	artifacts = append(artifacts, uimg)

	if o.Tools.VbutilKernel == "" {
		return artifacts, nil
	}

	// vbutil_kernel wants a bootloader stub and the kernel cmdline as files.
	zero := filepath.Join(outDir, "zero.bin")
	if err := os.WriteFile(zero, make([]byte, 512), 0o644); err != nil {
		return artifacts, fmt.Errorf("writing bootloader stub: %w", err)
	}
	cmdline := filepath.Join(outDir, "cmdline")
	if err := os.WriteFile(cmdline, []byte(o.Tools.Cmdline), 0o644); err != nil {
		return artifacts, fmt.Errorf("writing cmdline: %w", err)
	}

	packed := filepath.Join(outDir, "vmlinux.kpart")
	if err := o.runTool(ctx, Command{
		Path: o.Tools.VbutilKernel,
		Args: []string{
			"--pack", packed,
			"--version", "1",
			"--vmlinuz", uimg,
			"--arch", o.Tools.VbutilArch,
			"--keyblock", o.Tools.Keyblock,
			"--signprivate", o.Tools.DataKey,
			"--config", cmdline,
			"--bootloader", zero,
		},
		Dir: o.Tree,
	}); err != nil {
		return artifacts, err
	}
	artifacts = append(artifacts, packed)

	return artifacts, nil
}

// runTool launches a non-make packaging command and folds exit status into err.
func (o *Orchestrator) runTool(ctx context.Context, cmd Command) error {
	o.banner(cmd)
	res, err := o.Launcher.Launch(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(cmd.Path), err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d", filepath.Base(cmd.Path), res.ExitCode)
	}
	return nil
}
