//go:build windows

package fs

import (
	"golang.org/x/sys/windows"
)

// ListDrivePaths returns drive paths without volume names.
// GetLogicalDrives returns immediately, even for disconnected drives.
func ListDrivePaths() []string {
	var paths []string

	mask, err := windows.GetLogicalDrives()
	if err != nil || mask == 0 {
		return paths
	}

	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		paths = append(paths, string(rune('A'+i))+":\\")
	}

	return paths
}

// ListDrives returns available drives on Windows with display names.
// GetVolumeInformation can block on slow or disconnected drives.
func ListDrives() []Drive {
	var drives []Drive

	for _, path := range ListDrivePaths() {
		letter := string(path[0])

		pathPtr, err := windows.UTF16PtrFromString(path)
		if err != nil {
			continue
		}
		driveType := windows.GetDriveType(pathPtr)

		// Skip unknown and no-root drives
		if driveType == windows.DRIVE_UNKNOWN || driveType == windows.DRIVE_NO_ROOT_DIR {
			continue
		}

		volumeName := make([]uint16, windows.MAX_PATH+1)
		name := letter + ":"
		if err := windows.GetVolumeInformation(pathPtr, &volumeName[0], uint32(len(volumeName)), nil, nil, nil, nil, 0); err == nil {
			if volName := windows.UTF16ToString(volumeName); volName != "" {
				name = volName + " (" + letter + ":)"
			}
		}

		if name == letter+":" {
			switch driveType {
			case windows.DRIVE_REMOVABLE:
				name = "Removable (" + letter + ":)"
			case windows.DRIVE_CDROM:
				name = "CD/DVD (" + letter + ":)"
			case windows.DRIVE_REMOTE:
				name = "Network (" + letter + ":)"
			}
		}

		drives = append(drives, Drive{Name: name, Path: path})
	}

	return drives
}
