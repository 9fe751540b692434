package execution

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/adapters/filesystem"
	"github.com/felixgeelhaar/provisioner/internal/adapters/ledger"
	"github.com/felixgeelhaar/provisioner/internal/adapters/logging"
	"github.com/felixgeelhaar/provisioner/internal/domain/layout"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/fetch"
	"github.com/felixgeelhaar/provisioner/internal/installer"
	"github.com/felixgeelhaar/provisioner/internal/ports"
	"github.com/felixgeelhaar/provisioner/internal/testutil"
	"github.com/felixgeelhaar/provisioner/internal/testutil/mocks"
	"github.com/stretchr/testify/require"
)

// world is a fake host: an artifact server plus an apt/dpkg that keeps
// package state in memory.
type world struct {
	t      *testing.T
	prefix string
	work   string
	state  string
	runner *mocks.CommandRunner
	server *httptest.Server
	ledger *ledger.Ledger
	logs   bytes.Buffer

	mu         sync.Mutex
	blobs      map[string][]byte
	hits       map[string]int
	stalls     map[string]chan struct{}
	packages   map[string]string
	failing    map[string]bool
	registered bool
	refreshed  bool
	events     []string
}

func newWorld(t *testing.T) *world {
	t.Helper()

	root := t.TempDir()
	w := &world{
		t:        t,
		prefix:   filepath.Join(root, "opt"),
		work:     filepath.Join(root, "work"),
		state:    filepath.Join(root, "state"),
		runner:   mocks.NewCommandRunner(),
		blobs:    map[string][]byte{},
		hits:     map[string]int{},
		stalls:   map[string]chan struct{}{},
		packages: map[string]string{},
		failing:  map[string]bool{},
	}
	w.server = httptest.NewServer(http.HandlerFunc(w.serve))
	t.Cleanup(w.server.Close)
	w.runner.OnRun(w.system)
	w.ledger = ledger.New(w.state, filesystem.NewRealFileSystem())
	return w
}

func (w *world) serve(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	w.hits[r.URL.Path]++
	data, ok := w.blobs[r.URL.Path]
	started := w.stalls[r.URL.Path]
	delete(w.stalls, r.URL.Path)
	w.mu.Unlock()

	if started != nil {
		close(started)
		<-r.Context().Done()
		return
	}
	if !ok {
		http.NotFound(rw, r)
		return
	}
	_, _ = rw.Write(data)
}

// publish serves data at path and returns its URL.
func (w *world) publish(path string, data []byte) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blobs[path] = data
	return w.server.URL + path
}

// stall makes the next request for path hang until the client gives up.
// The returned channel is closed when that request arrives.
func (w *world) stall(path string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	started := make(chan struct{})
	w.stalls[path] = started
	return started
}

func (w *world) hitCount(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hits[path]
}

func (w *world) totalHits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, h := range w.hits {
		n += h
	}
	return n
}

func (w *world) eventLog() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

func (w *world) system(_ context.Context, call ports.CommandCall) (ports.CommandResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	args := call.Args
	switch call.Command {
	case "dpkg-query":
		name := args[len(args)-1]
		if v, ok := w.packages[name]; ok {
			return ports.CommandResult{Stdout: "installed\t" + v + "\n"}, nil
		}
		return ports.CommandResult{ExitCode: 1, Stderr: "dpkg-query: no packages found matching " + name + "\n"}, nil
	case "dpkg-deb":
		return ports.CommandResult{Stdout: "apache-arrow-apt-source\n"}, nil
	case "env":
		return w.aptGet(args[2:]), nil
	}

	if filepath.Base(call.Command) == "install.sh" {
		// A vendor installer: populates the directory it is given, if any.
		if len(args) > 0 && filepath.IsAbs(args[0]) {
			if err := os.MkdirAll(filepath.Join(args[0], "bin"), 0o755); err != nil {
				return ports.CommandResult{}, err
			}
		}
		w.events = append(w.events, "run "+filepath.Base(call.Command))
		return ports.CommandResult{Stdout: "installed\n"}, nil
	}
	return ports.CommandResult{}, fmt.Errorf("unexpected command %s", call)
}

func (w *world) aptGet(args []string) ports.CommandResult {
	switch args[0] {
	case "update":
		w.refreshed = w.registered
		w.events = append(w.events, "update")
		return ports.CommandResult{}
	case "install":
		target := args[len(args)-1]
		if strings.HasSuffix(target, ".deb") {
			w.registered = true
			w.packages["apache-arrow-apt-source"] = "1"
			w.events = append(w.events, "register "+filepath.Base(target))
			return ports.CommandResult{}
		}
		name, _, _ := strings.Cut(target, "=")
		if w.failing[name] || (name == "libarrow-dev" && !w.refreshed) {
			return ports.CommandResult{ExitCode: 100, Stderr: "E: Unable to locate package " + name + "\n"}
		}
		w.packages[name] = "1.0"
		w.events = append(w.events, "install "+name)
		return ports.CommandResult{}
	case "purge":
		name := args[len(args)-1]
		delete(w.packages, name)
		w.events = append(w.events, "purge "+name)
		return ports.CommandResult{}
	}
	return ports.CommandResult{ExitCode: 1, Stderr: "unknown apt-get command"}
}

func (w *world) orchestrator(opts ...Option) *Orchestrator {
	fs := filesystem.NewRealFileSystem()
	registry := installer.NewDefaultRegistry(installer.Config{
		Runner:     w.runner,
		FileSystem: fs,
		Ledger:     w.ledger,
		WorkDir:    w.work,
		KeyringDir: filepath.Join(w.state, "keyrings"),
		SourcesDir: filepath.Join(w.state, "sources.list.d"),
	})
	fetcher := fetch.New(w.work, fetch.WithRetries(3), fetch.WithBackoff(time.Millisecond, 5*time.Millisecond))
	logger := logging.NewConsoleLogger(
		logging.WithOutput(&w.logs),
		logging.WithJSONFormat(true),
		logging.WithLevel(ports.LevelDebug),
	)

	all := append([]Option{WithLedger(w.ledger), WithLogger(logger)}, opts...)
	return NewOrchestrator(registry, fetcher, layout.NewManager(fs), all...)
}

func (w *world) plan(workers int, ds ...plan.Descriptor) *plan.Plan {
	return plan.New(ds, plan.Settings{
		Prefix:   w.prefix,
		WorkDir:  w.work,
		StateDir: w.state,
		Workers:  workers,
	})
}

func (w *world) libtorch() plan.Descriptor {
	data := testutil.NewArchiveBuilder().
		File("libtorch/include/torch/torch.h", "// torch").
		File("libtorch/lib/libtorch.so", "ELF").
		Zip(w.t)
	return plan.Descriptor{
		Name:        "libtorch",
		Method:      plan.MethodArchiveExtract,
		Location:    w.publish("/libtorch-2.5.1.zip", data),
		Version:     "2.5.1+cpu",
		Destination: filepath.Join(w.prefix, "libtorch"),
		Checksum:    sum(data),
		Rename:      "libtorch",
	}
}

func (w *world) onnxruntime() plan.Descriptor {
	data := testutil.NewArchiveBuilder().
		File("onnxruntime-linux-x64-1.20.1/include/onnxruntime_c_api.h", "// ort").
		File("onnxruntime-linux-x64-1.20.1/lib/libonnxruntime.so", "ELF").
		TarGz(w.t)
	return plan.Descriptor{
		Name:        "onnxruntime",
		Method:      plan.MethodArchiveExtract,
		Location:    w.publish("/onnxruntime-linux-x64-1.20.1.tgz", data),
		Version:     "1.20.1",
		Destination: filepath.Join(w.prefix, "onnxruntime"),
		Checksum:    sum(data),
		Rename:      installer.RenameAny,
	}
}

func (w *world) arrowRepo() plan.Descriptor {
	return plan.Descriptor{
		Name:     "arrow-repo",
		Method:   plan.MethodAptRepoBootstrap,
		Location: w.publish("/apache-arrow-apt-source-latest-jammy.deb", []byte("!<arch>\ndebian-binary")),
	}
}

func (w *world) installer(name string, args ...string) plan.Descriptor {
	return plan.Descriptor{
		Name:        name,
		Method:      plan.MethodSelfInstaller,
		Location:    w.publish("/"+name+"/install.sh", []byte("#!/bin/sh\n")),
		Destination: filepath.Join(w.prefix, name),
		Args:        args,
	}
}

func apt(name string, requires ...string) plan.Descriptor {
	return plan.Descriptor{Name: name, Method: plan.MethodAptPackage, Location: name, NoRecommends: true, Requires: requires}
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

type transition struct {
	Name  string `json:"name"`
	From  string `json:"from"`
	To    string `json:"to"`
	At    string `json:"at"`
	Error string `json:"error"`
}

func (w *world) transitions() []transition {
	w.t.Helper()

	var out []transition
	sc := bufio.NewScanner(bytes.NewReader(w.logs.Bytes()))
	for sc.Scan() {
		var line struct {
			Msg string `json:"msg"`
			transition
		}
		require.NoError(w.t, json.Unmarshal(sc.Bytes(), &line))
		if line.Msg == "descriptor transition" {
			out = append(out, line.transition)
		}
	}
	return out
}

// indexOf returns the position of the first transition of name into to.
func indexOf(ts []transition, name, to string) int {
	for i, tr := range ts {
		if tr.Name == name && tr.To == to {
			return i
		}
	}
	return -1
}
