package commands

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCmdErr_WrapsWithPrintedError(t *testing.T) {
	err := cmdErr(errors.New("boom"))
	require.Error(t, err)
	require.EqualError(t, err, "error already printed")
	require.IsType(t, printedError{}, err)
}

func TestCmdErr_NilIsNil(t *testing.T) {
	require.NoError(t, cmdErr(nil))
}

func TestNewExecCmd_RequiresDBAndSQL(t *testing.T) {
	cmd := NewExecCmd()
	require.Equal(t, "exec", cmd.Name())
	require.Error(t, cmd.Args(cmd, []string{"onlyone"}))
}

func TestNewOpenCmd_RequiresExactlyOneArg(t *testing.T) {
	cmd := NewOpenCmd()
	require.Equal(t, "open", cmd.Name())
	require.Error(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"mydb"}))
}

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := newRootCmd("test")
	for _, name := range []string{"open", "exec", "export", "import", "recover", "stats", "bootstrap"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
	}
}
