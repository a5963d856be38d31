/*
Package registry is the compiled table of resource classes plugins report
against.

Storage plugins are not loaded dynamically: every resource class a plugin
may report is described ahead of time by a ClassDescriptor and looked up by
name. A real deployment would generate this table from plugin manifests at
build time; this package only defines the table shape, and pkg/classes
supplies the descriptors a deployment ships with.
*/
package registry
