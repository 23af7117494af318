package vm

/*
#cgo LDFLAGS: -lkrun
#include <stdlib.h>

int krun_create_ctx(void);
int krun_set_log_level(unsigned int level);
int krun_set_vm_config(unsigned int ctx_id, unsigned char num_vcpus, unsigned int ram_mib);
int krun_set_root(unsigned int ctx_id, const char *root_path);
int krun_add_virtiofs(unsigned int ctx_id, const char *tag, const char *path);
int krun_set_port_map(unsigned int ctx_id, const char *const port_map[]);
int krun_set_rlimits(unsigned int ctx_id, const char *const rlimits[]);
int krun_set_workdir(unsigned int ctx_id, const char *workdir);
int krun_set_exec(unsigned int ctx_id, const char *exec_path, const char *const argv[], const char *const envp[]);
int krun_set_env(unsigned int ctx_id, const char *const envp[]);
int krun_set_console_output(unsigned int ctx_id, const char *filename);
int krun_start_enter(unsigned int ctx_id);
int krun_free_ctx(unsigned int ctx_id);
*/
import "C"

import (
	"unsafe"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// cStringArray builds a null-terminated C array of C strings from ss.
// The returned free func must be called once the array is no longer
// needed by the FFI call it was passed to.
func cStringArray(ss []string) (**C.char, func()) {
	n := len(ss)
	arr := C.malloc(C.size_t(n+1) * C.size_t(unsafe.Sizeof(uintptr(0))))
	cArr := (*[1 << 28]*C.char)(arr)[: n+1 : n+1]
	for i, s := range ss {
		cArr[i] = C.CString(s)
	}
	cArr[n] = nil
	return (**C.char)(arr), func() {
		for i := 0; i < n; i++ {
			C.free(unsafe.Pointer(cArr[i]))
		}
		C.free(arr)
	}
}

func ffiCreateCtx() (uint32, error) {
	ret := C.krun_create_ctx()
	if ret < 0 {
		return 0, monoerrors.VmmFailure("create_ctx", int(ret))
	}
	return uint32(ret), nil
}

func ffiSetLogLevel(level LogLevel) error {
	ret := C.krun_set_log_level(C.uint(level))
	return checkFFI("set_log_level", ret)
}

func ffiSetVMConfig(ctxID uint32, numVCPUs, ramMiB int) error {
	ret := C.krun_set_vm_config(C.uint(ctxID), C.uchar(numVCPUs), C.uint(ramMiB))
	return checkFFI("set_vm_config", ret)
}

func ffiSetRoot(ctxID uint32, rootPath string) error {
	cPath := C.CString(rootPath)
	defer C.free(unsafe.Pointer(cPath))
	ret := C.krun_set_root(C.uint(ctxID), cPath)
	return checkFFI("set_root", ret)
}

func ffiAddVirtioFS(ctxID uint32, tag, hostPath string) error {
	cTag := C.CString(tag)
	cPath := C.CString(hostPath)
	defer C.free(unsafe.Pointer(cTag))
	defer C.free(unsafe.Pointer(cPath))
	ret := C.krun_add_virtiofs(C.uint(ctxID), cTag, cPath)
	return checkFFI("add_virtiofs", ret)
}

func ffiSetPortMap(ctxID uint32, ports []string) error {
	arr, free := cStringArray(ports)
	defer free()
	ret := C.krun_set_port_map(C.uint(ctxID), arr)
	return checkFFI("set_port_map", ret)
}

func ffiSetRlimits(ctxID uint32, rlimits []string) error {
	if len(rlimits) == 0 {
		return nil
	}
	arr, free := cStringArray(rlimits)
	defer free()
	ret := C.krun_set_rlimits(C.uint(ctxID), arr)
	return checkFFI("set_rlimits", ret)
}

func ffiSetWorkdir(ctxID uint32, workdir string) error {
	if workdir == "" {
		return nil
	}
	cWorkdir := C.CString(workdir)
	defer C.free(unsafe.Pointer(cWorkdir))
	ret := C.krun_set_workdir(C.uint(ctxID), cWorkdir)
	return checkFFI("set_workdir", ret)
}

func ffiSetExec(ctxID uint32, execPath string, argv, env []string) error {
	cExec := C.CString(execPath)
	defer C.free(unsafe.Pointer(cExec))
	cArgv, freeArgv := cStringArray(argv)
	defer freeArgv()
	cEnv, freeEnv := cStringArray(env)
	defer freeEnv()
	ret := C.krun_set_exec(C.uint(ctxID), cExec, cArgv, cEnv)
	return checkFFI("set_exec", ret)
}

func ffiSetEnv(ctxID uint32, env []string) error {
	cEnv, free := cStringArray(env)
	defer free()
	ret := C.krun_set_env(C.uint(ctxID), cEnv)
	return checkFFI("set_env", ret)
}

func ffiSetConsoleOutput(ctxID uint32, path string) error {
	if path == "" {
		return nil
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	ret := C.krun_set_console_output(C.uint(ctxID), cPath)
	return checkFFI("set_console_output", ret)
}

func ffiStartEnter(ctxID uint32) error {
	ret := C.krun_start_enter(C.uint(ctxID))
	return checkFFI("start_enter", ret)
}

func ffiFreeCtx(ctxID uint32) error {
	ret := C.krun_free_ctx(C.uint(ctxID))
	return checkFFI("free_ctx", ret)
}

func checkFFI(op string, ret C.int) error {
	if ret < 0 {
		return monoerrors.VmmFailure(op, int(ret))
	}
	return nil
}
