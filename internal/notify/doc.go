// Package notify shows desktop notifications through beeep.
package notify
