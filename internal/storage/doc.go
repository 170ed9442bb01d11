// Package storage persists the panel settings (mode, division, tempo) so a
// restart comes back where it left off. Disabled storage is a nil Store and
// every caller must tolerate that.
package storage
