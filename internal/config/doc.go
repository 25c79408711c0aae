// Package config loads the optional JSON tuning file of a tracking run.
package config
