package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorsMatchCauses(t *testing.T) {
	var v ValidationErrors
	require.NoError(t, v.Err())

	v.Add("host", ErrInvalidHost)
	v.Add("port", nil)
	v.AddMessage("vendor", "unknown vendor")

	err := v.Err()
	require.ErrorIs(t, err, ErrInvalidHost)
	require.NotErrorIs(t, err, ErrInvalidPort)
	require.Equal(t, "host: host is required; vendor: unknown vendor", err.Error())

	var fe FieldError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "host", fe.Field)
}

func TestValidationErrorsFieldPaths(t *testing.T) {
	var auth ValidationErrors
	auth.AddAt("auth", 1, ErrInvalidUsername)

	var v ValidationErrors
	v.Add("jump_host", auth.Err())
	v.AddAt("commands", 2, ErrEmptyCommand)
	v.Add("", ErrInvalidTimeout)

	paths := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		paths = append(paths, f.Field)
	}
	require.Equal(t, []string{"jump_host.auth[1]", "commands[2]", ""}, paths)
	require.ErrorIs(t, v.Err(), ErrInvalidUsername)

	f, ok := v.Lookup("commands[2]")
	require.True(t, ok)
	require.Equal(t, ErrEmptyCommand.Error(), f.Message)
	_, ok = v.Lookup("commands[0]")
	require.False(t, ok)
}

func TestTaskValidationReportsEveryField(t *testing.T) {
	task := validTask()
	task.Host = " "
	task.Commands = []string{"show version", ""}
	task.Auth = append(task.Auth, AuthProfile{})

	var v *ValidationErrors
	require.True(t, errors.As(task.Validate(), &v))
	_, ok := v.Lookup("host")
	require.True(t, ok)
	_, ok = v.Lookup("commands[1]")
	require.True(t, ok)
	_, ok = v.Lookup("auth[1]")
	require.True(t, ok)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"field":"commands[1]"`)
}
