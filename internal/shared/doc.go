// Package shared holds helpers used across packages that belong to no
// single domain. Test helpers live in the testutil subpackage.
package shared
