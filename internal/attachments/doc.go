// Package attachments stores files uploaded into a thread.
//
// Service enforces the size limit, sniffs the real content type with
// mimetype, and names the object chat_attachments/<thread>/<uuid><ext>.
// A Store backend persists the bytes and returns the URL that ends up on the
// message:
//
//   - DiskStore: files below a directory, served by the gateway under a
//     base URL such as /media/.
//   - S3Store: objects in a bucket via the AWS SDK upload manager. Public
//     buckets yield plain object URLs; private ones yield presigned GET URLs.
package attachments
