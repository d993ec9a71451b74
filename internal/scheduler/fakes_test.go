package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type runCall struct {
	name  string
	args  []string
	stdin string
}

// recorder keeps the invocations seen by a fake runner.
type recorder struct {
	mu    sync.Mutex
	calls []runCall
}

func (r *recorder) record(name string, args []string, stdin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{name: name, args: append([]string(nil), args...), stdin: stdin})
}

func (r *recorder) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.name+" "+strings.Join(c.args, " "))
	}
	return out
}

func failure(name string, args []string, stderr string) error {
	return &CommandError{Name: name, Args: args, ExitCode: 1, Stderr: stderr, Err: fmt.Errorf("exit status 1")}
}

// fakeLaunchctl tracks loaded plists by path.
type fakeLaunchctl struct {
	recorder
	loaded  map[string]bool
	failAll bool
}

func newFakeLaunchctl() *fakeLaunchctl {
	return &fakeLaunchctl{loaded: make(map[string]bool)}
}

func (f *fakeLaunchctl) Run(_ context.Context, name string, args []string, stdin string) (string, error) {
	f.record(name, args, stdin)
	if f.failAll {
		return "", failure(name, args, "launchctl: boom")
	}
	switch args[0] {
	case "load":
		f.loaded[args[1]] = true
		return "", nil
	case "unload":
		if !f.loaded[args[1]] {
			return "", failure(name, args, "Unload failed: 5: Input/output error")
		}
		delete(f.loaded, args[1])
		return "", nil
	case "list":
		for path := range f.loaded {
			if strings.Contains(path, args[1]+".plist") {
				return `{ "Label" = "` + args[1] + `"; };`, nil
			}
		}
		return "", failure(name, args, `Could not find service "`+args[1]+`" in domain for port`)
	}
	return "", failure(name, args, "unknown subcommand")
}

// fakeCrontab holds a single user crontab.
type fakeCrontab struct {
	recorder
	content  string
	exists   bool
	readFail bool
}

func (f *fakeCrontab) Run(_ context.Context, name string, args []string, stdin string) (string, error) {
	f.record(name, args, stdin)
	switch args[0] {
	case "-l":
		if f.readFail {
			return "", failure(name, args, "crontab: permission denied")
		}
		if !f.exists {
			return "", failure(name, args, "no crontab for tester")
		}
		return f.content, nil
	case "-":
		f.content, f.exists = stdin, true
		return "", nil
	case "-r":
		if !f.exists {
			return "", failure(name, args, "no crontab for tester")
		}
		f.content, f.exists = "", false
		return "", nil
	}
	return "", failure(name, args, "usage")
}

// fakeSchtasks keeps tasks keyed by full name.
type fakeSchtasks struct {
	recorder
	tasks     map[string][]string
	queryFail bool
	createErr string
}

func newFakeSchtasks(foreign ...string) *fakeSchtasks {
	f := &fakeSchtasks{tasks: make(map[string][]string)}
	for _, name := range foreign {
		f.tasks[name] = nil
	}
	return f
}

func (f *fakeSchtasks) Run(_ context.Context, name string, args []string, stdin string) (string, error) {
	f.record(name, args, stdin)
	switch args[0] {
	case "/Create":
		if f.createErr != "" {
			return "", failure(name, args, f.createErr)
		}
		tn := argAfter(args, "/TN")
		if _, ok := f.tasks[tn]; ok {
			return "", failure(name, args, "ERROR: Cannot create a file when that file already exists.")
		}
		f.tasks[tn] = args
		return "SUCCESS: The scheduled task has successfully been created.", nil
	case "/Delete":
		tn := argAfter(args, "/TN")
		if _, ok := f.tasks[tn]; !ok {
			return "", failure(name, args, "ERROR: The system cannot find the file specified.")
		}
		delete(f.tasks, tn)
		return "SUCCESS", nil
	case "/Query":
		if f.queryFail {
			return "", failure(name, args, "ERROR: Access is denied.")
		}
		if tn := argAfter(args, "/TN"); tn != "" {
			if _, ok := f.tasks[tn]; !ok {
				return "", failure(name, args, "ERROR: The system cannot find the file specified.")
			}
			return tn, nil
		}
		names := make([]string, 0, len(f.tasks))
		for tn := range f.tasks {
			names = append(names, tn)
		}
		sort.Strings(names)
		var b strings.Builder
		for _, tn := range names {
			fmt.Fprintf(&b, "\"%s\",\"1/1/2025 9:00:00 AM\",\"Ready\"\r\n", tn)
		}
		return b.String(), nil
	}
	return "", failure(name, args, "usage")
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
