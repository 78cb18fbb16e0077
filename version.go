package bpsim

// Specifies bpsim version.
const Version = "1.0.0"
