// Package core defines the ports used by the runfrog services: brokers,
// result backends, content staging and the external analyzer.
package core
