// Package pci implements the segmented bus/slot/function allocator and
// the connection-compatibility rules between buses and devices.
//
// A Set holds an ordered list of buses. Each bus is shaped after a PCI
// controller model, which fixes its connection flags and usable slot
// window; each slot tracks its eight functions in a byte. Reservations
// take either a single function or a whole slot, and exact double use is
// an error in both granularities.
//
// Sets come in two flavors. A normal set validates strictly and fails
// when full. A dry-run set is used for sizing: automatic reservations
// grow new bridge-shaped buses on demand, and next-slot assignment skips
// writing addresses back to devices, so a second, real pass over the same
// definition produces the final layout on a correctly sized set.
package pci
