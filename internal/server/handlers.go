package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classtab/internal/apperr"
	"classtab/internal/wakeup"
)

// bindCalendar accepts a raw ICS payload as the request body and binds it
// as the user's calendar source. The payload is parsed up front so a
// broken calendar is rejected instead of bound. On a successful rebind
// the source file is replaced, the registry updated, and only then the
// occurrence cache invalidated; that ordering is what keeps at most one
// stale read possible.
func (s *Server) bindCalendar(c *gin.Context) {
	groupID, userID := c.Param("group"), c.Param("user")

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		respondError(c, apperr.Wrap(apperr.ErrValidation, errors.New("empty calendar body")))
		return
	}

	templates, err := s.parser.Parse(body)
	if err != nil {
		respondError(c, err)
		return
	}

	nickname := c.Query("nickname")
	if nickname == "" {
		nickname = userID
	}

	path := s.store.PathFor(groupID, userID)
	if err := s.store.Write(path, body); err != nil {
		respondError(c, err)
		return
	}
	if err := s.reg.Bind(groupID, userID, nickname); err != nil {
		respondError(c, err)
		return
	}
	s.cache.Invalidate(path)

	s.log.Info("calendar bound",
		zap.String("group", groupID),
		zap.String("user", userID),
		zap.Int("event_count", len(templates)),
	)
	respond(c, http.StatusCreated, gin.H{
		"message":     "课表绑定成功！",
		"event_count": len(templates),
	})
}

type wakeupRequest struct {
	// Text is the raw share message; Token may be supplied directly
	// instead.
	Text  string `json:"text"`
	Token string `json:"token"`
}

// bindWakeup resolves a WakeUp share token, converts the shared schedule
// to ICS and binds it through the normal calendar path.
func (s *Server) bindWakeup(c *gin.Context) {
	groupID, userID := c.Param("group"), c.Param("user")

	var req wakeupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, err))
		return
	}

	token := req.Token
	if token == "" {
		token = wakeup.ParseToken(req.Text)
	}
	if token == "" {
		respondError(c, apperr.Wrap(apperr.ErrValidation, errors.New("no share token found")))
		return
	}

	shared, err := s.wakeup.Fetch(c.Request.Context(), token)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, err))
		return
	}

	icsText, err := wakeup.ConvertToICS(shared, s.loc, s.log)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.ErrParse, err))
		return
	}

	nickname := c.Query("nickname")
	if nickname == "" {
		nickname = userID
	}

	path := s.store.PathFor(groupID, userID)
	if err := s.store.Write(path, []byte(icsText)); err != nil {
		respondError(c, err)
		return
	}
	if err := s.reg.Bind(groupID, userID, nickname); err != nil {
		respondError(c, err)
		return
	}
	s.cache.Invalidate(path)

	respond(c, http.StatusCreated, gin.H{
		"message":      "通过 WakeUp 口令绑定课表成功！",
		"course_count": len(shared.Courses),
	})
}

// userSchedule answers "what is this user doing today/tomorrow". An empty
// day is a normal answer with its own wording, not an error.
func (s *Server) userSchedule(c *gin.Context) {
	groupID, userID := c.Param("group"), c.Param("user")

	date, tomorrow, ok := s.resolveDate(c)
	if !ok {
		return
	}

	occs, err := s.engine.ScheduleForDate(groupID, userID, date)
	if err != nil {
		respondError(c, err)
		return
	}

	if len(occs) == 0 {
		msg := "你今天没有课啦！"
		if tomorrow {
			msg = "你明天没有课啦！"
		}
		respond(c, http.StatusOK, gin.H{"message": msg, "courses": []courseDTO{}})
		return
	}

	respond(c, http.StatusOK, gin.H{"courses": toCourseDTOs(occs)})
}

// userNow reports the user's current-or-next occurrence with its
// classification relative to now.
func (s *Server) userNow(c *gin.Context) {
	groupID, userID := c.Param("group"), c.Param("user")

	occ, err := s.engine.CurrentOrNext(groupID, userID, s.engine.Today())
	if err != nil {
		respondError(c, err)
		return
	}

	result := s.engine.Classify(occ)
	data := gin.H{
		"status": result.Status.String(),
		"detail": result.Detail,
	}
	if occ != nil {
		data["course"] = toCourseDTO(*occ)
	}
	respond(c, http.StatusOK, data)
}

func (s *Server) groupToday(c *gin.Context) {
	s.groupSnapshot(c, false)
}

func (s *Server) groupTomorrow(c *gin.Context) {
	s.groupSnapshot(c, true)
}

func (s *Server) groupSnapshot(c *gin.Context, tomorrow bool) {
	groupID := c.Param("group")

	date := s.engine.Today()
	noCourseLabel := "今日无课"
	emptyMsg := "群友们接下来都没有课啦！"
	if tomorrow {
		date = date.AddDate(0, 0, 1)
		noCourseLabel = "明日无课"
		emptyMsg = "群友们明天都没有课啦！"
	}

	entries, err := s.engine.GroupSnapshot(groupID, date)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(entries) == 0 {
		respond(c, http.StatusOK, gin.H{"message": emptyMsg, "entries": []groupEntryDTO{}})
		return
	}

	out := make([]groupEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toGroupEntryDTO(e, noCourseLabel))
	}
	respond(c, http.StatusOK, gin.H{"entries": out})
}

// weeklyRanking answers "who attended the most class-hours this week".
func (s *Server) weeklyRanking(c *gin.Context) {
	groupID := c.Param("group")

	weekStart, weekEnd := s.engine.Week()
	entries, err := s.engine.Ranking(groupID, weekStart, weekEnd)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(entries) == 0 {
		respond(c, http.StatusOK, gin.H{"message": "本周大家都没有课呢！", "ranking": []rankingEntryDTO{}})
		return
	}

	respond(c, http.StatusOK, gin.H{
		"week_start": weekStart.Format("2006-01-02"),
		"week_end":   weekEnd.Format("2006-01-02"),
		"ranking":    toRankingDTOs(entries),
	})
}

type reminderRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) setReminder(c *gin.Context) {
	groupID, userID := c.Param("group"), c.Param("user")

	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.ErrValidation, err))
		return
	}

	if err := s.reg.SetReminder(groupID, userID, *req.Enabled); err != nil {
		respondError(c, err)
		return
	}

	msg := "已关闭上课提醒。"
	if *req.Enabled {
		msg = "已开启上课提醒，开课前 30 分钟会提醒你。"
	}
	respond(c, http.StatusOK, gin.H{"message": msg, "enabled": *req.Enabled})
}

// resolveDate maps the date query parameter ("today" default, or
// "tomorrow") onto a concrete day. Writes the error response itself when
// the parameter is unrecognized.
func (s *Server) resolveDate(c *gin.Context) (date time.Time, tomorrow bool, ok bool) {
	switch c.DefaultQuery("date", "today") {
	case "today":
		return s.engine.Today(), false, true
	case "tomorrow":
		return s.engine.Today().AddDate(0, 0, 1), true, true
	default:
		respondError(c, apperr.Wrap(apperr.ErrValidation, errors.New("date must be today or tomorrow")))
		return time.Time{}, false, false
	}
}
