package scan

// Locate returns the candidate part paths likely to hold the requested PDF,
// ranked by discovery order (first found, first tried). It is used when a
// direct fetch by a previously known part path fails or no path was ever
// known. Fails with a NOT_FOUND error when the message holds no PDF parts.
func Locate(structure *MimeNode) ([]string, error) {
	descriptors := Walk(structure)
	if len(descriptors) == 0 {
		return nil, NewError(CategoryNotFound, "no PDF attachments in message")
	}
	paths := make([]string, len(descriptors))
	for i, d := range descriptors {
		paths[i] = d.PartPath
	}
	return paths, nil
}
