package dicomstream

import "github.com/suyashkumar/dicom/pkg/tag"

// Action is what the anonymise flow does with one attribute
type Action int

const (
	// ActionKeep passes the attribute through unchanged
	ActionKeep Action = iota
	// ActionRemove drops the attribute
	ActionRemove
	// ActionZero keeps the attribute with an empty value
	ActionZero
	// ActionReplaceUID swaps the value for a fresh UID, consistent within
	// the stream
	ActionReplaceUID
	// ActionClean and ActionDummy are profile actions this implementation
	// collapses to ActionZero
	ActionClean
	ActionDummy
	// ActionRemoveOrZero collapses to ActionRemove
	ActionRemoveOrZero
)

// Effective resolves the collapsed actions to the behaviour actually
// applied. CLEAN and DUMMY act as ZERO, REMOVE_OR_ZERO acts as REMOVE.
func (a Action) Effective() Action {
	switch a {
	case ActionClean, ActionDummy:
		return ActionZero
	case ActionRemoveOrZero:
		return ActionRemove
	default:
		return a
	}
}

// ProfileName is the DeidentificationMethod value stamped on anonymised
// objects
const ProfileName = "Basic Application Confidentiality Profile"

// BasicProfile maps attributes to their de-identification action. Attributes
// the anonymise stage replaces with the key's pseudonyms (patient, study,
// series and instance identifiers, accession number, study ID, descriptions
// and protocol name) are rewritten before this table is consulted, so their
// entries here do not take effect in that stage. Attributes absent from the
// table are kept.
var BasicProfile = map[tag.Tag]Action{
	// Patient identity and demographics
	tag.PatientBirthTime:          ActionZero,
	tag.PatientAge:                ActionRemoveOrZero,
	tag.PatientAddress:            ActionRemove,
	tag.PatientTelephoneNumbers:   ActionRemove,
	tag.OtherPatientIDs:           ActionRemove,
	tag.OtherPatientIDsSequence:   ActionRemove,
	tag.OtherPatientNames:         ActionRemove,
	tag.PatientMotherBirthName:    ActionRemove,
	tag.PatientBirthName:          ActionRemove,
	tag.MilitaryRank:              ActionRemove,
	tag.EthnicGroup:               ActionRemove,
	tag.PatientReligiousPreference: ActionRemove,
	tag.PatientComments:           ActionRemove,
	tag.PatientInsurancePlanCodeSequence: ActionRemove,
	tag.PatientSize:               ActionClean,
	tag.PatientWeight:             ActionClean,
	tag.Occupation:                ActionRemove,
	tag.AdditionalPatientHistory:  ActionRemove,
	tag.LastMenstrualDate:         ActionRemove,
	tag.PregnancyStatus:           ActionRemove,
	tag.SmokingStatus:             ActionRemove,

	// Institution and staff
	tag.InstitutionName:                 ActionRemoveOrZero,
	tag.InstitutionAddress:              ActionRemove,
	tag.InstitutionalDepartmentName:     ActionRemove,
	tag.StationName:                     ActionRemoveOrZero,
	tag.ReferringPhysicianName:          ActionZero,
	tag.ReferringPhysicianAddress:       ActionRemove,
	tag.ReferringPhysicianTelephoneNumbers: ActionRemove,
	tag.PerformingPhysicianName:         ActionRemove,
	tag.OperatorsName:                   ActionRemove,
	tag.PhysiciansOfRecord:              ActionRemove,
	tag.NameOfPhysiciansReadingStudy:    ActionRemove,
	tag.RequestingPhysician:             ActionRemove,
	tag.ScheduledPerformingPhysicianName: ActionRemove,

	// Identifiers and free text
	tag.AccessionNumber:             ActionZero,
	tag.StudyID:                     ActionZero,
	tag.PerformedProcedureStepID:    ActionRemove,
	tag.ScheduledProcedureStepID:    ActionRemove,
	tag.RequestAttributesSequence:   ActionRemove,
	tag.InstanceCreatorUID:          ActionReplaceUID,
	tag.StorageMediaFileSetUID:      ActionReplaceUID,
	tag.ReferencedSOPInstanceUID:    ActionReplaceUID,
	tag.DeviceSerialNumber:          ActionRemoveOrZero,
	tag.ProtocolName:                ActionClean,
	tag.StudyDescription:            ActionClean,
	tag.SeriesDescription:           ActionClean,
	tag.AdmittingDiagnosesDescription: ActionRemove,
	tag.DerivationDescription:       ActionClean,
	tag.ImageComments:               ActionClean,
	tag.AcquisitionComments:         ActionRemove,
	tag.ContentSequence:             ActionRemove,
	tag.CommentsOnThePerformedProcedureStep: ActionRemove,
	tag.RequestedProcedureID:        ActionRemove,
	tag.FillerOrderNumberImagingServiceRequest: ActionZero,
	tag.PlacerOrderNumberImagingServiceRequest: ActionZero,
	tag.MedicalRecordLocator:        ActionRemove,
	tag.IssuerOfPatientID:           ActionRemove,
	tag.CurrentPatientLocation:      ActionRemove,
	tag.PatientInstitutionResidence: ActionRemove,
}
