// Package sastoretest contains compliance tests for the sastore interfaces.
package sastoretest
