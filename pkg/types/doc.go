/*
Package types defines monocore's data model: the Service and Group
descriptors an operator writes, the Config that groups them under the
invariants in the design (unique names, acyclic dependencies, groups that
exist), and the runtime records — MicroVmState, MicroVmStatus and the
sandbox/filesystem DB rows — that describe a live service.

Service and Group fields are kept close to their wire representation
(plain strings for ports, env vars, rlimits and mounts) so that two
snapshots can be compared byte-for-byte with reflect.DeepEqual to decide
whether a service changed between reconciliations. Parsing those strings
into the structured form the VMM FFI wants happens one layer up, in
pkg/vm, where the spec's validation rules actually apply.
*/
package types
