package execenv

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/notargets/cfdrun/config"
)

// PackageCompiler compiles and links user sources with the package's
// compile helper.
type PackageCompiler struct {
	Runner Runner
}

// CompileAndLink builds the solver from srcDir into destDir and returns the
// helper's exit status.
func (c *PackageCompiler) CompileAndLink(ctx context.Context, pkg *config.Package, srcDir, destDir string,
	libAdd []string, stdout, stderr io.Writer) (int, error) {
	cmd := pkg.CompilerCommand()
	if len(cmd) == 0 {
		return -1, fmt.Errorf("no compiler command configured for %s", pkg.CodeName)
	}
	args := append([]string{}, cmd[1:]...)
	args = append(args, "--keep-going", "--source", srcDir, "--dest", destDir)
	if len(libAdd) > 0 {
		args = append(args, "--opt-libs", strings.Join(libAdd, " "))
	}
	res, err := c.Runner.Run(ctx, cmd[0], args, WithWorkingDir(destDir), WithOutput(stdout, stderr))
	return ExitCode(res, err), err
}
