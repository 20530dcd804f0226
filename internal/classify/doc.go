// Package classify hosts classification collaborators that implement
// posting.Classifier. The rules sub-package is the default, dependency-free
// keyword classifier.
package classify
