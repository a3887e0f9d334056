package store

import (
	"time"

	"github.com/tamgam/diya/internal/model"
)

// ExportProgress builds the progress report for all students. Empty
// subjectID exports every subject.
func (s *Store) ExportProgress(subjectID string) (*model.ProgressExport, error) {
	students, err := s.ListUsersByRole(model.UserRoleStudent)
	if err != nil {
		return nil, err
	}

	export := &model.ProgressExport{
		GeneratedAt: time.Now(),
		SubjectID:   subjectID,
	}
	for _, u := range students {
		sp := model.StudentProgress{
			ExternalID:  u.Username,
			DisplayName: u.DisplayName,
		}

		profiles, err := s.ListProfilesByStudent(u.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			if subjectID != "" && p.SubjectID != subjectID {
				continue
			}
			sp.Profiles = append(sp.Profiles, model.ProfileExport{
				SubjectID:       p.SubjectID,
				Level:           p.Level,
				LevelLabel:      model.LevelLabel(p.Level),
				WindowCount:     p.WindowCount,
				RollingScore:    p.RollingScore,
				LastEvaluatedAt: p.LastEvaluatedAt,
			})
		}

		subs, err := s.ListSubmissionsByStudent(u.ID, subjectID)
		if err != nil {
			return nil, err
		}
		sp.Submissions = subs

		areas, err := s.ListWeakAreasByStudent(u.ID)
		if err != nil {
			return nil, err
		}
		for _, w := range areas {
			if subjectID != "" && w.SubjectID != subjectID {
				continue
			}
			sp.WeakAreas = append(sp.WeakAreas, model.WeakAreaExport{
				SubjectID:  w.SubjectID,
				Topic:      w.Topic,
				MissCount:  w.MissCount,
				LastSeenAt: w.LastSeenAt,
			})
		}

		if len(sp.Profiles) == 0 && len(sp.Submissions) == 0 && len(sp.WeakAreas) == 0 {
			continue
		}
		export.Students = append(export.Students, sp)
	}
	return export, nil
}
