// Package adminapi exposes the workspace and key management endpoints, the
// public key validation endpoint and the guarded /api/v1 surface on one chi
// router.
//
// Management routes require a bearer token whose uid owns the workspace in
// question. Unknown workspaces and workspaces owned by someone else both
// answer 404.
package adminapi
