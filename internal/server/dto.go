package server

import (
	"time"

	"classtab/internal/model"
	"classtab/internal/schedule"
)

type courseDTO struct {
	Summary         string    `json:"summary"`
	Description     string    `json:"description,omitempty"`
	Location        string    `json:"location,omitempty"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

func toCourseDTO(occ model.Occurrence) courseDTO {
	return courseDTO{
		Summary:         occ.Summary,
		Description:     occ.Description,
		Location:        occ.Location,
		Start:           occ.Start,
		End:             occ.End,
		DurationMinutes: int(occ.Duration().Minutes()),
	}
}

func toCourseDTOs(occs []model.Occurrence) []courseDTO {
	out := make([]courseDTO, 0, len(occs))
	for _, occ := range occs {
		out = append(out, toCourseDTO(occ))
	}
	return out
}

type groupEntryDTO struct {
	UserID   string     `json:"user_id"`
	Nickname string     `json:"nickname"`
	Summary  string     `json:"summary"`
	Course   *courseDTO `json:"course,omitempty"`
}

func toGroupEntryDTO(e schedule.GroupEntry, noCourseLabel string) groupEntryDTO {
	dto := groupEntryDTO{UserID: e.UserID, Nickname: e.Nickname, Summary: noCourseLabel}
	if e.Occurrence != nil {
		course := toCourseDTO(*e.Occurrence)
		dto.Course = &course
		dto.Summary = course.Summary
	}
	return dto
}

type rankingEntryDTO struct {
	UserID       string `json:"user_id"`
	Nickname     string `json:"nickname"`
	TotalMinutes int    `json:"total_minutes"`
	Count        int    `json:"count"`
}

func toRankingDTOs(entries []model.RankingEntry) []rankingEntryDTO {
	out := make([]rankingEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, rankingEntryDTO{
			UserID:       e.UserID,
			Nickname:     e.Nickname,
			TotalMinutes: int(e.Total.Minutes()),
			Count:        e.Count,
		})
	}
	return out
}
