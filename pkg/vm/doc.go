// Package vm validates a service's declared VM parameters into a
// MicroVMConfig and binds it to the host VMM through the narrow FFI
// surface in the data model's external interfaces section.
package vm
