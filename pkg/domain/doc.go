// Package domain holds the titration data model: residues and their derived
// shift intensities, the protocol calculator, and the Titration registry that
// ingests step files and maintains the complete, incomplete, filtered and
// selected views. It has no dependency on the storage or transport layers.
package domain
