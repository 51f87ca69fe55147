// Package addr holds the shared device-address model the buskit allocators
// operate on: the concrete address forms (PCI-style segmented, CCW-style
// sequential, virtio-serial controller/port, VIO scalar register), the
// per-device address record, and the domain definition that groups devices
// and controllers and offers a fallible traversal over them.
//
// The allocators themselves live in the subpackages:
//
//   - pci: segmented bus/slot/function allocator and the
//     connection-compatibility rules
//   - ccw: sequential counter allocator with a used-set
//   - serial: per-controller port bitmap allocator
//   - vio: conflict-probing scalar register allocator
//   - assign: the orchestrator that drives all four over a domain
//     definition, gated by capability flags
//
// Nothing here is safe for concurrent mutation; a domain definition and
// the address sets built over it are owned by one caller at a time.
package addr
