// Package gtest contains helpers for tests across the module.
package gtest
