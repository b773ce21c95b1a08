// Package rconfig loads the rlited/uipcpd daemon configuration, following
// the teacher's ingest/config package: an ini-style file parsed with
// gcfg, environment-variable overrides, and a persisted UUID written
// atomically so it survives daemon restarts.
package rconfig

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/gravwell/gcfg"
)

const (
	maxConfigSize int64 = 4 * 1024 * 1024

	envLogLevel  = "RLITE_LOG_LEVEL"
	envStateFile = "RLITE_STATE_FILE"
)

var (
	ErrConfigTooLarge = errors.New("config file is too large")
	ErrNoGlobalBlock  = errors.New("config is missing the [global] block")
)

// Global is the [global] section every rlite daemon config carries,
// mirroring the teacher's IngestConfig block.
type Global struct {
	Log_Level        string
	Log_File         string
	State_File       string
	Control_Socket   string
	Node_UUID        string
	Default_DIF_Type string
}

// Config is the top-level rlited configuration file shape. Callers embed
// Global and add daemon-specific sections the way an ingester embeds
// config.IngestConfig and adds its own Listener/Preprocessor sections.
type Config struct {
	Global Global
}

// LoadFile reads and gcfg-parses the file at p into v, refusing files larger
// than maxConfigSize. It applies no environment overrides or defaults; those
// are the separate EnvOverride and Verify calls.
func LoadFile(v interface{}, p string) error {
	fin, err := os.Open(p)
	if err != nil {
		return err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return err
	}
	if fi.Size() > maxConfigSize {
		return ErrConfigTooLarge
	}
	if err := gcfg.FatalOnly(gcfg.ReadInto(v, fin)); err != nil {
		return err
	}
	return nil
}

// LoadBytes parses r directly, used by tests that build a config in memory.
func LoadBytes(v interface{}, r io.Reader) error {
	return gcfg.FatalOnly(gcfg.ReadInto(v, r))
}

// Verify fills in Global defaults: log level ERROR, control socket
// /run/rlite/ctrl.sock, default DIF type "normal", and a freshly generated
// node UUID whenever Node_UUID is empty.
func (g *Global) Verify() error {
	if g.Log_Level == "" {
		g.Log_Level = "ERROR"
	}
	if g.Control_Socket == "" {
		g.Control_Socket = "/run/rlite/ctrl.sock"
	}
	if g.Default_DIF_Type == "" {
		g.Default_DIF_Type = "normal"
	}
	if g.Node_UUID == "" {
		g.Node_UUID = uuid.New().String()
	}
	return nil
}

// EnvOverride applies RLITE_LOG_LEVEL / RLITE_STATE_FILE environment
// overrides on top of whatever the config file specified, the way the
// teacher's GRAVWELL_LOG_LEVEL override works.
func (g *Global) EnvOverride() {
	if v := os.Getenv(envLogLevel); v != "" {
		g.Log_Level = v
	}
	if v := os.Getenv(envStateFile); v != "" {
		g.State_File = v
	}
}

// PersistUUID atomically rewrites the node UUID into the state file so a
// restarted daemon keeps the same node identity, mirroring the teacher's
// config.SetIngesterUUID using the same renameio atomic-rewrite approach.
func PersistUUID(path string, id uuid.UUID) error {
	return renameio.WriteFile(path, []byte(fmt.Sprintf("%s\n", id.String())), 0640)
}
