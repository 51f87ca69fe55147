// Package assign drives the four allocators over a whole domain
// definition, in the fixed pass order a definition goes through before it
// can be turned into a machine:
//
//  1. virtio-serial ports, including controller growth
//  2. spapr-VIO registers (pseries), including SCSI model defaulting
//  3. channel-subsystem addresses or the legacy s390 transport
//  4. virtio-mmio priming on ARM machines that support it
//  5. PCI slots: a dry-run sizing pass that may add bridge controllers,
//     then the real pass that writes addresses and controller options
//
// Capability flags gate every machine-specific behavior; the package does
// no discovery of its own.
package assign
