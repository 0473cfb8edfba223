// Package sainmem contains in-memory implementations of the sastore interfaces.
package sainmem
