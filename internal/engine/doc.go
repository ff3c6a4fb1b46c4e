// Package engine sequences sandbox activations: booting, mounting a
// template, installing dependencies, starting the dev server, and
// switching the mounted template in place without tearing the sandbox
// down. All state transitions are published on the event bus.
package engine
