//go:build !linux

package platform

// RenameNoReplace renames oldpath to newpath, failing with an error
// matching fs.ErrExist if newpath already exists. The check and rename are
// not atomic on this platform.
func RenameNoReplace(oldpath, newpath string) error {
	return renameChecked(oldpath, newpath)
}
