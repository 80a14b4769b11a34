// Package plugins hosts selector-creator plugin subpackages. It contains no
// runtime code itself; each subpackage (e.g. plugins/fragment) implements the
// core.Plugin interface and is installed on the service at startup.
package plugins
