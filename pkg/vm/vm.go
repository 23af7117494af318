package vm

import "runtime"

// VM is a lightweight Linux virtual machine bound to a VMM context.
// Every FFI call made while applying its configuration is checked; the
// first failure frees the context and surfaces as an error rather than
// leaving a half-configured context behind.
type VM struct {
	ctxID  uint32
	config *MicroVMConfig
	closed bool
}

// FromConfig creates an opaque VMM context and applies every field of
// cfg to it: log level, vCPU+RAM, rootfs, virtio-fs mounts, port map,
// rlimits, working directory, exec path+argv+env, and console output,
// in that order. The context is released automatically if any step
// fails.
func FromConfig(cfg *MicroVMConfig) (*VM, error) {
	ctxID, err := ffiCreateCtx()
	if err != nil {
		return nil, err
	}

	v := &VM{ctxID: ctxID, config: cfg}
	if err := v.applyConfig(); err != nil {
		ffiFreeCtx(ctxID)
		return nil, err
	}

	// Belt-and-suspenders release if Close is never called explicitly,
	// mirroring the Drop guarantee the data model requires.
	runtime.SetFinalizer(v, func(v *VM) { v.Close() })
	return v, nil
}

func (v *VM) applyConfig() error {
	if err := ffiSetLogLevel(v.config.LogLevel); err != nil {
		return err
	}
	if err := ffiSetVMConfig(v.ctxID, v.config.NumVCPUs, v.config.RAMMiB); err != nil {
		return err
	}
	if err := ffiSetRoot(v.ctxID, v.config.RootPath); err != nil {
		return err
	}
	for _, m := range v.config.VirtioFS {
		if err := ffiAddVirtioFS(v.ctxID, m.Guest, m.Host); err != nil {
			return err
		}
	}

	ports := make([]string, len(v.config.PortMap))
	for i, p := range v.config.PortMap {
		ports[i] = p.String()
	}
	if err := ffiSetPortMap(v.ctxID, ports); err != nil {
		return err
	}

	rlimits := make([]string, len(v.config.Rlimits))
	for i, r := range v.config.Rlimits {
		rlimits[i] = r.String()
	}
	if err := ffiSetRlimits(v.ctxID, rlimits); err != nil {
		return err
	}

	if err := ffiSetWorkdir(v.ctxID, v.config.WorkdirPath); err != nil {
		return err
	}

	if v.config.ExecPath != "" {
		if err := ffiSetExec(v.ctxID, v.config.ExecPath, v.config.Argv, v.config.Env); err != nil {
			return err
		}
	} else if err := ffiSetEnv(v.ctxID, v.config.Env); err != nil {
		return err
	}

	return ffiSetConsoleOutput(v.ctxID, v.config.ConsoleOutput)
}

// Start enters the guest and blocks until it exits; it does not return
// while the VM runs. Callers needing concurrent work must run Start on
// a dedicated goroutine — it locks the calling goroutine to its OS
// thread for the duration, since libkrun requires the thread that
// enters the guest to stay pinned for the VM's lifetime.
func (v *VM) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return ffiStartEnter(v.ctxID)
}

// Close releases the VMM context. Safe to call more than once and safe
// to call whether or not Start was ever called.
func (v *VM) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	runtime.SetFinalizer(v, nil)
	return ffiFreeCtx(v.ctxID)
}
