// Package blobstore locates and fetches snapshot objects from a storage
// container.
//
// A Container lists objects by name prefix, opens one for reading, and
// accepts uploads. Two implementations are provided: AzureContainer for Azure
// Blob Storage and DirContainer for a local directory, selected by Connect
// from the container URL scheme.
//
// FindLatest picks the newest object under a prefix. Fetch downloads an
// object into a StagedFile that exists only once the download has completed;
// the caller releases it when done.
package blobstore
